// Package storage persists annobot's state in a single SQLite file:
//   - Scheduled announcement tasks (pending and executed)
//   - The recipient directory (known chats + client flag)
package storage
