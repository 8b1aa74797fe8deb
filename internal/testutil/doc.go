// Package testutil contains helpers shared by package tests: stub agents, a
// commit recorder, fluent event builders and a session seeder. They are not
// intended for production usage.
package testutil
