// Package services defines the failure taxonomy shared by every stage and the
// narrow contracts for the pipeline's external collaborators (script
// generation, asset fetch, rendering, upload) together with their HTTP
// implementations.
//
// Collaborator errors are wrapped with sentinel markers so the recovery layers
// can classify them (transient, quota exhaustion, missing artifact, permanent)
// without inspecting provider-specific payloads.
package services
