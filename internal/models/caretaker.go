package models

// Caretaker 看护人记录（assignedElderly 为负责的设备 ID 列表）
type Caretaker struct {
	CaretakerID     string   `json:"caretakerID"`
	Username        string   `json:"username"`
	Name            string   `json:"name"`
	Email           string   `json:"email"`
	AssignedElderly []string `json:"assignedElderly"`
}

// Assignment 看护人当前负责的设备集合
type Assignment struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	DeviceIDs []string `json:"deviceIds"`
}

// ToAssignment 去除空值与重复项，保持原有顺序
func (c *Caretaker) ToAssignment() *Assignment {
	if c == nil {
		return nil
	}
	return &Assignment{ID: c.CaretakerID, Name: c.Name, DeviceIDs: UniqueDeviceIDs(c.AssignedElderly)}
}

// UniqueDeviceIDs 去除空值与重复项
func UniqueDeviceIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// SameDevices 两个设备集合是否相同（与顺序无关）
func SameDevices(a, b []string) bool {
	a, b = UniqueDeviceIDs(a), UniqueDeviceIDs(b)
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, id := range a {
		set[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := set[id]; !ok {
			return false
		}
	}
	return true
}

// AssignmentUpdate 更新看护人的设备分配
type AssignmentUpdate struct {
	CaretakerID string   `json:"caretakerID"`
	DeviceIDs   []string `json:"deviceIds"`
}

// Elderly 被看护人
type Elderly struct {
	ElderlyID                string `json:"elderlyID"`
	Name                     string `json:"name"`
	DeviceID                 string `json:"deviceId"`
	Age                      int    `json:"age"`
	MedicalNotes             string `json:"medicalNotes"`
	CaretakerID              string `json:"caretakerID"`
	FamilyMemberName         string `json:"familyMemberName"`
	FamilyMemberRelationship string `json:"familyMemberRelationship"`
	FamilyMemberEmail        string `json:"familyMemberEmail"`
}

// ElderlyUpdate 被看护人部分更新：nil 字段保持不变，空字符串表示显式清空
type ElderlyUpdate struct {
	ElderlyID                string  `json:"elderlyID"`
	Name                     *string `json:"name,omitempty"`
	DeviceID                 *string `json:"deviceId,omitempty"`
	Age                      *int    `json:"age,omitempty"`
	MedicalNotes             *string `json:"medicalNotes,omitempty"`
	CaretakerID              *string `json:"caretakerID,omitempty"`
	FamilyMemberName         *string `json:"familyMemberName,omitempty"`
	FamilyMemberRelationship *string `json:"familyMemberRelationship,omitempty"`
	FamilyMemberEmail        *string `json:"familyMemberEmail,omitempty"`
}

// Empty 没有任何待更新字段
func (u ElderlyUpdate) Empty() bool {
	return len(u.ToInput()) == 1
}

// ToInput 生成 UpdateElderlyInput，只包含已提供字段
func (u ElderlyUpdate) ToInput() map[string]interface{} {
	input := map[string]interface{}{"elderlyID": u.ElderlyID}
	setString := func(key string, v *string) {
		if v != nil {
			input[key] = *v
		}
	}
	setString("name", u.Name)
	setString("deviceId", u.DeviceID)
	if u.Age != nil {
		input["age"] = *u.Age
	}
	setString("medicalNotes", u.MedicalNotes)
	setString("caretakerID", u.CaretakerID)
	setString("familyMemberName", u.FamilyMemberName)
	setString("familyMemberRelationship", u.FamilyMemberRelationship)
	setString("familyMemberEmail", u.FamilyMemberEmail)
	return input
}

// ApplyTo 将已提供字段合并到现有记录
func (u ElderlyUpdate) ApplyTo(e *Elderly) {
	apply := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	apply(&e.Name, u.Name)
	apply(&e.DeviceID, u.DeviceID)
	if u.Age != nil {
		e.Age = *u.Age
	}
	apply(&e.MedicalNotes, u.MedicalNotes)
	apply(&e.CaretakerID, u.CaretakerID)
	apply(&e.FamilyMemberName, u.FamilyMemberName)
	apply(&e.FamilyMemberRelationship, u.FamilyMemberRelationship)
	apply(&e.FamilyMemberEmail, u.FamilyMemberEmail)
}
