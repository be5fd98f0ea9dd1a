// Package connect holds the shared vocabulary of the connection
// orchestrator: the platform registry, authorization attempts and their
// lifecycle, connection records, errors, configuration and the activity
// sink used for auditing.
//
// Subpackages build on it:
//   - session keeps attempts recoverable across popup and redirect flows.
//   - transport opens the authorization window and falls back to a full
//     redirect when popups are blocked.
//   - messenger carries results between windows with strict origin checks.
//   - reconcile merges optimistic results with the backend's authoritative
//     connection list.
//   - orchestrator drives the initiator, the callback receiver and the
//     connection screen.
//   - connector is the server side: it issues single use states, exchanges
//     codes with each platform and stores connection records.
package connect
