// Package catalogue implements the Loader (§4.B): it reads YAML definition
// documents and initial-state documents, validates them, resolves script
// paths, and produces domain entities ready to be projected into the
// Knowledge Layer as triples.
package catalogue
