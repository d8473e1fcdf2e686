// Package central maintains a persistent logical connection to a single BLE
// peripheral and streams the JSON values it notifies.
//
// A Central walks a fixed sequence of stages:
//
//	AcquireAdapter -> ScanSelect -> ConnectDiscover -> RunSession
//
// Any stage failure is logged, the link is released if one was established,
// and after the reconnect backoff the sequence restarts from AcquireAdapter.
// Only cancellation of the context passed to Run leads to the terminal
// Shutdown state.
//
// All platform work goes through device.Transport, so the package never
// depends on a concrete Bluetooth stack.
package central
