// Package http exposes the server's REST API.
//
//	@title			Alice AI Server API
//	@version		1.0
//	@description	Share-gated chat authorization: signing challenges, signature verification against on-chain share balances, and the Telegram agent registry.
//	@BasePath		/
package http
