// Package visibility decides whether a user may view a single asset.
//
// Each visibility mode is handled by its own Policy; PolicyFor dispatches on the
// asset's mode and fails on unknown values instead of allowing. Evaluator wraps the
// policies with the ownership shortcut and the admin bypass for SEO assets, and
// CanSee additionally applies the per-role status gate to SEO assets.
package visibility
