// Command wsdemo runs the WebSocket demo server and the connection demo view.
package main

func main() {
	Execute()
}
