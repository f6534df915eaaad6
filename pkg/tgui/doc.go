// Package tgui holds text helpers for Telegram messages sent with
// ParseMode="HTML": escaping, small formatting wrappers and splitting long
// text into message-sized chunks.
package tgui
