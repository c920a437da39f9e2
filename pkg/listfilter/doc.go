// Package listfilter produces asset listings that agree with single-asset checks.
//
// Predicate renders the visibility rules as a squirrel WHERE clause so storage can
// narrow candidates with one query. Every returned row is then checked once with the
// evaluator; a row the evaluator rejects is dropped, never reported as an error, and
// List reads on until the page is full.
package listfilter
