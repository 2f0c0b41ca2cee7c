// Package chaidata holds the types shared by the Efergy meter and Netatmo
// thermostat clients: the interval granularity used for historic retrieval,
// hour-aligned date rounding, and the error taxonomy surfaced by both clients.
//
// The clients themselves live in the efergy and netatmo subpackages.
package chaidata
