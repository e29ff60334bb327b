package airtable

// Field names of the tables the orchestrator writes.
const (
	FieldName        = "Name"
	FieldAcronym     = "Acronym"
	FieldStartDate   = "Start Date"
	FieldEndDate     = "End Date"
	FieldDescription = "Description"
	FieldObjectives  = "Objectives"
	FieldStatus      = "Status"
	FieldCoordinator = "Coordinator"

	FieldAsanaProject    = "Asana Project"
	FieldDriveFolder     = "Drive Folder"
	FieldScopingDocument = "Scoping Document"
	FieldKickoffDeck     = "Kickoff Deck"

	FieldProject  = "Project"
	FieldMember   = "Member"
	FieldRole     = "Role"
	FieldFTE      = "FTE"
	FieldDueDate  = "Due Date"
	FieldAssignee = "Assignee"
	FieldTaskLink = "Asana Task"

	FieldDraftID       = "Draft ID"
	FieldShareToken    = "Share Token"
	FieldSnapshot      = "Snapshot"
	FieldApproverEmail = "Approver Email"
	FieldApproverNotes = "Approver Notes"
	FieldCreatedBy     = "Created By"
	FieldOwnerEmail    = "Owner Email"
	FieldSubmittedAt   = "Submitted At"
	FieldDecidedAt     = "Decided At"
	FieldProvisionedAt = "Provision Job At"
	FieldUpdatedAt     = "Updated At"
)

// ProjectStatusPlanning is the status given to a newly registered project.
const ProjectStatusPlanning = "Planning"
