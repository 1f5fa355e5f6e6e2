package store

import _ "embed"

//go:embed static/index.html
var indexHTML []byte

//go:embed static/login.html
var loginHTML []byte
