// Command telemetry-bridge relays sensor readings between an MQTT broker,
// a reading store and live dashboard viewers, and drives the heater LED
// from a shared temperature threshold.
package main

func main() {
	Execute()
}
