// Package memory provides cross-session recall. A Store ingests the final
// answers of finished sessions and lets agents search what a user discussed
// before through the search_memory tool.
//
// Wire ingestion with IngestCallback on the engine callback manager and expose
// recall with NewSearchTool on any model agent.
package memory
