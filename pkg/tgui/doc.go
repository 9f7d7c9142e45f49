// Package tgui provides small Telegram UI building helpers shared by the
// adapter and the admin dialog (inline keyboards, callback/URL buttons).
package tgui
