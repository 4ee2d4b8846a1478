// Package catalog builds the ordered list of work item identities and reads
// item content for batch construction.
//
// A catalog is computed once per pass and stored in the submission state;
// the cursor indexes into it. Building a catalog never moves the cursor.
// Callers opt into a fresh pass explicitly with Reset.
package catalog
