// Package cli provides the interactive authkeeper command-line client.
//
// The REPL keeps one session (access and refresh token pair) in memory and
// drives the HTTP API through client.Client:
//
//	register   create an account
//	login      authenticate and start a session
//	refresh    rotate the refresh token and get a new access token
//	revoke     revoke the current refresh token and end the session
//	users      list users
//	tokens     show the refresh token history of the current user
//	logout     drop the session locally
//	help, exit
//
// Protected commands refresh the access token once and retry when the server
// answers 401.
package cli
