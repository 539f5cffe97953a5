// Package config loads, validates, and hot-reloads the sorting-line
// configuration document.
//
// The document is TOML with required sections (vision, classifier, belt,
// sensors, diverters) and optional sections (persistence, api, monitoring,
// safety, workflow, logging). A Store wraps the validated document with
// copy-on-validated-swap semantics: readers always observe a complete
// document, reloads only take effect after the candidate passes full
// validation, and dynamic Set calls roll back on validation failure.
package config
