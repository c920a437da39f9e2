// Package permissions answers which actions a user may take on an asset.
//
// View and download follow the visibility evaluator including the SEO specialist
// status gate. Edit and delete belong to the uploader while the asset is a draft or
// rejected; admins may edit or delete anything they can view. Approval and
// visibility changes are admin-only and apply to SEO assets. Sharing is reserved
// for the uploader on uploader-only and selected-users assets.
package permissions
