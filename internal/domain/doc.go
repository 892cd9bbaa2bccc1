// Package domain contains the core domain entities and value objects for listycity.
//
// This package represents the innermost layer of the Clean Architecture. It has
// no dependencies on infrastructure concerns (databases, file system, logging) and
// contains only pure business logic.
//
// # Entities
//
//   - [Record]: A city entry (name, province); the name is the document key
//   - [Document]: A raw remote document as delivered in a snapshot
//   - [Entry]: A record as held in the local list, with its pending flag
//   - [ListState]: The ordered list rebuilt from each snapshot
//   - [Selection]: The row currently selected for deletion
//
// # Design Principles
//
// Domain entities are:
//   - Free of infrastructure dependencies
//   - Focused on business rules and invariants
//   - Testable without mocks or external systems
package domain
