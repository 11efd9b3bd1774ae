// Package tgui holds Telegram UI helpers: inline keyboard conversion,
// area:action[:payload] callback data, and HTML for ParseMode="HTML".
package tgui
