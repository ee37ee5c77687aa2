package utils

import (
	"fmt"
	"strings"
	"time"
)

// MaxCustomPoints is the maximum point value allowed for a custom activity.
const MaxCustomPoints = 30

// ValidateCustomPoints takes a point value as input and returns a boolean indicating whether it is allowed for a custom activity.
func ValidateCustomPoints(points int) bool {
	return points >= 1 && points <= MaxCustomPoints
}

// ValidateDate takes a date string as input and returns a boolean indicating whether the input is a well-formed YYYY-MM-DD date.
func ValidateDate(date string) bool {
	_, err := time.Parse("2006-01-02", date)
	return err == nil
}

// printFramed prints a message inside a one-line frame of the given character.
func printFramed(message, frameChar string) {
	frame := strings.Repeat(frameChar, len(message)+4)

	fmt.Println(frame)
	fmt.Printf("%s %s %s\n", frameChar, message, frameChar)
	fmt.Println(frame)
	fmt.Println()
}

// PrintBanner frames a success message in plus signs.
func PrintBanner(message string) {
	printFramed(message, "+")
}

// PrintError frames an error message in equals signs.
func PrintError(message string) {
	printFramed("ERROR: "+message, "=")
}
