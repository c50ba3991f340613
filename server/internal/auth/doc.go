// Package auth provides API key middleware for the REST adapter.
//
// APIKey(mode, header, key, open...) is a gorilla/mux middleware. When mode
// is not "apikey" or key is empty every request passes, which suits local
// development. Paths listed in open, such as the health endpoint, are never
// checked.
package auth
