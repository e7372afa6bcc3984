// Package main is the storefront scraper CLI.
//
// Usage:
//
//	scraper run --catalog Sites_Catalog.csv --out-dir out
//	scraper catalog validate Sites_Catalog.csv
//	scraper strategies woo
package main

func main() {
	Execute()
}
