// Package connector reconciles a stack of data-integration sources,
// destinations and connections against a connector platform's HTTP API.
//
// A Stack is an engine.Reconciler. Check computes the diff in dry-run mode.
// Apply deletes removed or recreated items, updates existing ones and
// creates missing ones, in that order:
//
//  1. connections that are unmentioned or must be recreated are deleted
//  2. sources and destinations are deleted, updated or created
//  3. configured connections are updated or created with their stream catalog
//
// A source or destination must be recreated when its configuration differs
// from the remote one. A connection must be recreated when its source or
// destination must be.
package connector
