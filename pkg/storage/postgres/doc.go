// Package postgres opens the backing stores of the service: the PostgreSQL
// pool with its schema migrations, the optional Redis client used by the
// rate limiter, and the S3 client that receives audit archives.
package postgres
