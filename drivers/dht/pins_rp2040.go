//go:build rp2040

package dht

// maxGPIO is the highest user GPIO on the RP2040 (GP0..GP28).
const maxGPIO = 28
