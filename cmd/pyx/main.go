// Command pyx serves a directory over HTTP/1.1.
package main

import "github.com/pyxhttp/pyx/cmd/pyx/cmd"

func main() {
	cmd.Execute()
}
