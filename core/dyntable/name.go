/*
Package dyntable implements access to generic tables whose name is chosen by the caller at
request time.

A generic table has a fixed layout: an integer primary key id_x, assigned by the database,
and the twenty nullable text columns x_01 to x_20. Tables are created on first use by the
Provisioner. Payloads are mapped onto the fixed columns by Encode.

Table names are interpolated into SQL text, therefore every name must pass ValidName first
and is quoted through csql.DB.Table.
*/
package dyntable

import "regexp"

// MaxNameLength is the maximum length of a table name
const MaxNameLength = 50

var validName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidName returns true if name may be used as a table name
func ValidName(name string) bool {
	return len(name) <= MaxNameLength && validName.MatchString(name)
}
