// Package matchmaking pairs players that want a game in the same room.
//
// Entries are matched in arrival order. An entry that waits 10 seconds is
// reported as LOW_AVAILABILITY; at 15 seconds it is either paired with a
// bot or, in rooms without bot fallback, reported as FAILED and dropped.
// Both deadlines live under one timer registration per entry, which is
// cancelled before the entry is marked MATCHED, so a human match and a bot
// fallback can never both happen for the same entry.
package matchmaking
