//go:build integration

// Package testdb provides utilities for database integration tests.
//
// Tests run against the database named by DATABASE_URL (or
// TASKDEPS_TEST_DB_URL) and are skipped when neither is set. The schema is
// brought up with the embedded goose migrations once per connection, and
// each test body runs in its own transaction that is rolled back afterwards:
//
//	func TestMyFeature(t *testing.T) {
//	    if testdb.ShouldSkipDatabaseTest() {
//	        t.Skip("DATABASE_URL not set - skipping integration test")
//	    }
//	    db := testdb.GetTestDBWithT(t)
//	    testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
//	        deps := postgres.NewPostgresDependencyStore(tx, nil)
//	        // ...
//	    })
//	}
package testdb
