// Package sql provides lexing and parsing for the catalog's statement
// language.
//
// Keywords are case-insensitive. Strings are single quoted, with a doubled
// quote standing for a literal one. Bare names may contain letters, digits
// and the characters "_ . - / @", so pointers such as main@<hash> need no
// quoting.
//
// # Parser Usage
//
//	statement, err := sql.NewParser("CREATE BRANCH dev FROM main").Parse()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Supported Statements
//
//	CREATE BRANCH|TAG [IF NOT EXISTS] name [FROM pointer]
//	DROP BRANCH|TAG|REFERENCE name
//	ASSIGN BRANCH|TAG name TO pointer [EXPECT hash]
//	MERGE [BRANCH] source [INTO target]
//	USE [REFERENCE] pointer
//	LIST REFERENCES | SHOW REFERENCES
//	SHOW LOG [pointer] [LIMIT n]
//	SHOW TABLES [AT pointer]
//	SHOW SNAPSHOT table[@pointer]
//	SHOW DIFF pointer TO pointer
//	RESOLVE pointer [AS OF 'timestamp']
//	COMMIT [ON branch] SET t = 'snap' [, ...] [REMOVE t [, ...]] [EXPECT hash] [MESSAGE 'text']
//	INGEST 'file.csv' INTO table [ON branch] [MESSAGE 'text']
//	QUERY 'select ...' [AT pointer]
//	EXPORT TO 'url'
//	CREATE REMOTE name 'url' | DROP REMOTE name | SHOW REMOTES
//	PUSH [TO remote] [WITH ...] | FETCH [FROM remote] [WITH ...]
package sql
