// Package store provides the data storage layer of the Lexica service.
//
// It defines the document store (relational, gorm) and the vector store
// (Milvus in production, in-memory for tests), both scoped per tenant.
package store
