package main

import "strings"

// euphemize softens child stderr when show_errors is off.
var euphemize = strings.NewReplacer(
	"Error", "Challenge",
	"error", "challenge",
	"ERROR", "CHALLENGE",
	"Exception", "Dynamic",
	"exception", "dynamic",
	"Failed", "Postponed",
	"failed", "postponed",
	"Fatal", "Noteworthy",
	"fatal", "noteworthy",
	"crash", "pause",
).Replace
