// Package mysql opens MySQL connection pools and applies the embedded schema
// migrations from deploy/migrations. Repositories built on top of it live in
// their own domain packages.
package mysql
