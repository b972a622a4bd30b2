// Package fixtures contains entities from a small library domain for ORM testing.
//
// Reader, BookCopy and Lending together cover every supported column type (integers, floats, booleans, text,
// timestamps, UUIDs, nullable pointers, JSON) and relations in both flavours: a nullable many-to-one
// relation from BookCopy to the Reader it is lent to, and mandatory many-to-one relations from Lending.
//
// This is testing infrastructure - not production domain code. The entities of the example application
// live in example/core.
package fixtures
