package llmgateway

// This file intentionally carries no Model type: transport and adapter
// already import llmgateway for its canonical types, so a Model type here
// that imported them back would close an import cycle. The top-level
// handle lives in package model instead (see model/model.go); a typical
// caller builds one adapter.Registry, one registry.Registry over a
// model.Factory bound to that adapter registry, and looks up Model handles
// by "provider/model_name" as requests arrive.
