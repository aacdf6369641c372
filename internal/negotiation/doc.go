// Package negotiation holds the Garden agent's pricing policy: tiered
// proposals, counter-offer evaluation against a flexible floor, and the text
// classifiers that turn free-form chat into intents, amounts and tier picks.
// Nothing here performs I/O.
package negotiation
