// Package extract turns fetched page bodies into raw listing records.
//
// An Extractor runs an ordered chain of strategies against a page and keeps the
// first non-empty result. Two strategies ship with the package: NextData reads the
// hydration payload that server-rendered sites embed in a script tag, and Table
// falls back to the first HTML table on the page.
package extract
