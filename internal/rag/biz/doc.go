// Package biz implements the Lexica business logic: parsing, chunking,
// embedding, ingestion, retrieval, context assembly and answer generation,
// composed behind the Service interface.
package biz
