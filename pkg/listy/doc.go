// Package listy keeps an ordered list of cities in sync with a remote
// document collection and turns user intents into remote writes.
//
// # Basic Usage
//
//	cfg := listy.Config{
//	    Store:      listy.DriverFS,
//	    Dir:        "/var/lib/listycity/cities",
//	    Collection: "cities",
//	}
//
//	l, err := listy.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer l.Close()
//
//	if err := l.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	_ = l.Add(ctx, listy.Record{Name: "Regina", Province: "SK"})
//
// # Stores
//
// [Config.Store] selects the backing collection: an in-process map
// ([DriverMemory]), a directory of JSON files watched with fsnotify
// ([DriverFS]), a SQLite database ([DriverSQLite]), PostgreSQL with
// LISTEN/NOTIFY ([DriverPostgres]), or a collection served by another
// process over WebSocket ([DriverWS]). [WithStore] bypasses the factory.
//
// # List Semantics
//
// Every snapshot from the store replaces the list wholesale and clears the
// selection. Added records appear immediately, marked pending, and stay
// until the next snapshot whether or not the write succeeded. Edits are
// local unless [Config.PersistEdits] is set. Deletes act on the selected
// row; the row disappears when the store confirms with a new snapshot.
//
// # Notices
//
// Outcomes the user should see (nothing selected, deleted, delete failed,
// save failed) are sent to the [Notifier] given with [WithNotifier].
//
// # Lifecycle States
//
// An instance is either [StateIdle] or [StateSubscribed]. Start subscribes
// and Stop unsubscribes; both may be repeated. Close stops the instance and
// releases the store if New opened it.
package listy
