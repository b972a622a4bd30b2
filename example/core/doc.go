// Package core contains the entities of the example application: users and the location each user lives at.
//
// A User references exactly one Location through a one-to-one relation, and every user email is unique.
// Both rules are part of the derived schema, so the store enforces them on flush.
package core
