// Package textutil provides text sanitization helpers for deriving
// filesystem-legal names from catalog titles.
package textutil
