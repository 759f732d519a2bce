// Package probe issues single HTTP GET samples against monitored sites and
// measures how long each one takes. It does not interpret the response; that
// is left to the outcome package.
package probe
