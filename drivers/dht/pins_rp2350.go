//go:build rp2350

package dht

// maxGPIO is the highest GPIO on the RP2350B package (GP0..GP47). On the
// QFN-60 RP2350A the upper pins are not bonded out and the line never
// answers, which surfaces as a read failure.
const maxGPIO = 47
