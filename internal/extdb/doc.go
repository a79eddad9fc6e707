// Package extdb reads image metadata from the relational database of a
// database-mediated NAS device. The engine never touches that device's
// files; the database rows are the only source of truth for it.
package extdb
