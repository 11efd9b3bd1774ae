// Package logx is reelbot's zerolog wrapper.
//
// Console output is human-readable with a short caller, file output is JSON,
// and lines at or above a minimum level can be forwarded to a Telegram group
// chat under a rate limit.
package logx
