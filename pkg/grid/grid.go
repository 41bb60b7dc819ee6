// Package grid maps linear cell indexes onto rows and columns, for laying
// out text cells such as the desktop register overlay.
package grid

// GetGridCoords returns the column and row of cell index in a grid cols wide.
func GetGridCoords(index, cols int) (x, y int) {
	return index % cols, index / cols
}

// Rows is the number of rows n cells fill in a grid cols wide.
func Rows(n, cols int) int {
	return (n + cols - 1) / cols
}
