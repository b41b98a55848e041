package main

import (
	"fmt"
	"os"
)

// ANSI codes for CLI feedback; the --no-color flag switches them all off.
const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiDim    = "\033[2m"
	ansiBold   = "\033[1m"
)

func colorize(code, text string) string {
	if noColor {
		return text
	}
	return code + text + ansiReset
}

// statusLabel pads before colorizing so ANSI codes never break alignment.
func statusLabel(label string) string {
	return colorize(ansiBold, fmt.Sprintf("%-15s", label+":"))
}

func printSuccess(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(ansiGreen, "ok")+" "+fmt.Sprintf(format, args...))
}

func printError(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(ansiRed, "error")+" "+fmt.Sprintf(format, args...))
}

func printWarning(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(ansiYellow, "warning")+" "+fmt.Sprintf(format, args...))
}

// printStatus renders one aligned line of the status report.
func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s %s\n", statusLabel(label), fmt.Sprintf(format, args...))
}

// printStep reports pipeline progress while submit --wait polls.
func printStep(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(ansiDim, ".. "+fmt.Sprintf(format, args...)))
}
