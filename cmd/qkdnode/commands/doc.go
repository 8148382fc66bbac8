// Package commands wires the qkdnode CLI: the serve command that runs one
// QKD endpoint, and the parity utility for comparing sifted keys.
package commands
