// Package lumenfs implements a log-structured, wear-aware file system for
// raw block devices whose pages are erasable only in large units and
// programmable only in one direction (set-bits -> clear-bits). It presents a
// flat namespace of small files with stream-style read, write, truncate,
// move, copy, and delete, and is designed to survive power loss without
// corrupting previously-committed data.
package lumenfs
