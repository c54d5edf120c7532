// Package tgui holds small helpers for Telegram HTML messages and inline
// keyboards: escaping, a line-oriented message builder and callback data
// encoding.
package tgui
