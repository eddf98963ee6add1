// Package view holds the derived view state of the valet screens:
// dashboard, rooms and services.
//
// Each view is a Holder that keeps the last good result of its full view
// query. Re-fetches replace the value wholesale; optimistic mutations from
// the action layer edit a copy and swap it in. Nothing here ever undoes an
// optimistic change locally: the next re-fetch restores ground truth.
//
// A closed Holder drops every late result, so a re-fetch that resolves
// after its session ended cannot touch state nobody is looking at.
package view
