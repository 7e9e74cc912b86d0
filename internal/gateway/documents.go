package gateway

const readingFields = `
      deviceId
      timestamp
      heartRate
      isMoving
      motion
      status`

const listWatchDataQuery = `
  query ListWatchData($filter: TableWatchDataFilterInput, $limit: Int, $nextToken: String) {
    listWatchData(filter: $filter, limit: $limit, nextToken: $nextToken) {
      items {` + readingFields + `
      }
      nextToken
    }
  }`

const getCaretakerByUsernameQuery = `
  query GetCaretakerByUsername($username: String!) {
    getCaretakerByUsername(username: $username) {
      caretakerID
      username
      name
      email
      assignedElderly
    }
  }`

const createWatchDataMutation = `
  mutation CreateWatchData($input: CreateWatchDataInput!) {
    createWatchData(input: $input) {` + readingFields + `
    }
  }`

const updateWatchDataMutation = `
  mutation UpdateWatchData($input: UpdateWatchDataInput!) {
    updateWatchData(input: $input) {` + readingFields + `
    }
  }`

const deleteWatchDataMutation = `
  mutation DeleteWatchData($input: DeleteWatchDataInput!) {
    deleteWatchData(input: $input) {` + readingFields + `
    }
  }`

const updateCaretakerMutation = `
  mutation UpdateCaretaker($input: UpdateCaretakerInput!) {
    updateCaretaker(input: $input) {
      caretakerID
      username
      name
      email
      assignedElderly
    }
  }`

const updateElderlyMutation = `
  mutation UpdateElderly($input: UpdateElderlyInput!) {
    updateElderly(input: $input) {
      elderlyID
      name
      deviceId
      age
      medicalNotes
      caretakerID
      familyMemberName
      familyMemberRelationship
      familyMemberEmail
    }
  }`

const onCreateWatchDataSubscription = `
  subscription OnCreateWatchData {
    onCreateWatchData {` + readingFields + `
    }
  }`

// MutationKind 变更操作类型，取值即响应中的字段名
type MutationKind string

const (
	MutationCreateReading   MutationKind = "createWatchData"
	MutationUpdateReading   MutationKind = "updateWatchData"
	MutationDeleteReading   MutationKind = "deleteWatchData"
	MutationUpdateCaretaker MutationKind = "updateCaretaker"
	MutationUpdateElderly   MutationKind = "updateElderly"
)

var mutationDocuments = map[MutationKind]string{
	MutationCreateReading:   createWatchDataMutation,
	MutationUpdateReading:   updateWatchDataMutation,
	MutationDeleteReading:   deleteWatchDataMutation,
	MutationUpdateCaretaker: updateCaretakerMutation,
	MutationUpdateElderly:   updateElderlyMutation,
}
